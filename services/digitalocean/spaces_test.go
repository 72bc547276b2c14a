package digitalocean

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSpacesClient_RequiresSettings(t *testing.T) {
	full := SpacesConfig{AccessKey: "k", SecretKey: "s", Bucket: "b", Endpoint: "https://nyc3.digitaloceanspaces.com"}

	for name, mutate := range map[string]func(*SpacesConfig){
		"bucket":   func(c *SpacesConfig) { c.Bucket = "" },
		"endpoint": func(c *SpacesConfig) { c.Endpoint = "" },
		"secret":   func(c *SpacesConfig) { c.SecretKey = "" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := full
			mutate(&cfg)
			_, err := NewSpacesClient(cfg)
			assert.Error(t, err)
		})
	}

	client, err := NewSpacesClient(full)
	require.NoError(t, err)
	assert.Equal(t, "7/s.json.enc", client.objectKey("7/s.json.enc"))

	full.Prefix = "copilot-archive"
	client, err = NewSpacesClient(full)
	require.NoError(t, err)
	assert.Equal(t, "copilot-archive/7/s.json.enc", client.objectKey("7/s.json.enc"))
}
