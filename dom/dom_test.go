package dom_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorforge/go-colord/colorderr"
	"github.com/colorforge/go-colord/dom"
)

const testDoc = `<?xml version="1.0"?>
<profile>
 <name>
  <title>Default</title>
  <title xml:lang="fr">Par défaut</title>
  <title xml:lang="en_GB">Colour Default</title>
 </name>
 <data format="hex">deadbeef</data>
</profile>`

func TestGetNode(t *testing.T) {
	root, err := dom.ParseData([]byte(testDoc))
	require.NoError(t, err)

	n, err := root.GetNode("profile/name/title")
	require.NoError(t, err)
	assert.Equal(t, "Default", n.Text)

	n, err = root.GetNode("data")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", n.Text)
	assert.Equal(t, "hex", n.Attr("format"))

	_, err = root.GetNode("profile/missing")
	assert.True(t, colorderr.IsKind(err, colorderr.NotFound))
}

func TestLocalizedText(t *testing.T) {
	root, err := dom.ParseData([]byte(testDoc))
	require.NoError(t, err)
	name, err := root.GetNode("name")
	require.NoError(t, err)

	// exact
	got, err := name.LocalizedText("title", "en_GB")
	require.NoError(t, err)
	assert.Equal(t, "Colour Default", got)

	// language fallback: fr_CA.UTF-8 → fr
	got, err = name.LocalizedText("title", "fr_CA.UTF-8")
	require.NoError(t, err)
	assert.Equal(t, "Par défaut", got)

	// empty-locale fallback
	got, err = name.LocalizedText("title", "de_DE")
	require.NoError(t, err)
	assert.Equal(t, "Default", got)

	// invalid locale shape
	_, err = name.LocalizedText("title", "NOT A LOCALE")
	assert.True(t, colorderr.IsKind(err, colorderr.InvalidLocale))
}

func TestParseRejectsJunk(t *testing.T) {
	_, err := dom.ParseData([]byte("<a><b></a>"))
	require.Error(t, err)
	assert.True(t, colorderr.IsKind(err, colorderr.FileInvalid))
}
