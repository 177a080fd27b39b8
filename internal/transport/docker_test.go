package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/model"
)

func TestEnvSliceFormatsKeyValuePairs(t *testing.T) {
	out := envSlice(map[string]string{"FOO": "bar"})
	assert.Equal(t, []string{"FOO=bar"}, out)
}

func TestEnvSliceEmptyForNilMap(t *testing.T) {
	assert.Empty(t, envSlice(nil))
}

func TestDockerTransportDiagnosticsBeforeConnect(t *testing.T) {
	tr := newDockerTransport(&model.DockerConfig{Image: "busybox"}, zap.NewNop())
	d := tr.Diagnostics()
	assert.Equal(t, false, d["connected"])
	assert.Equal(t, "", d["containerId"])
}
