package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordingCapturesAndFilters(t *testing.T) {
	rec := &Recording{}
	rec.Publish(New(ServerRegistered, "a"))
	rec.Publish(New(ToolsDiscovered, "b"))
	rec.Publish(New(ServerRegistered, "c"))

	assert.Len(t, rec.Events(), 3)
	assert.Len(t, rec.OfType(ServerRegistered), 2)
	assert.Len(t, rec.OfType(ServerDeleted), 0)
}

func TestNoopDiscards(t *testing.T) {
	var n Noop
	assert.NotPanics(t, func() { n.Publish(New(ExecutionCompleted, nil)) })
}
