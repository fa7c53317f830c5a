package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"AgentCanvas/internal/config"
)

func TestEditorLayoutCarriesEveryGridConstant(t *testing.T) {
	cfg := config.Default().Editor
	cfg.GridPadding = 24
	cfg.GridColumns = 3

	layout := editorLayout(cfg)
	assert.Equal(t, 24.0, layout.GridPadding)
	assert.Equal(t, 3, layout.GridColumns)
	assert.Equal(t, cfg.NodeWidth, layout.NodeWidth)
	assert.Equal(t, cfg.ContainerPadding, layout.ContainerPadding)

	first := layout.GridPosition(0)
	assert.Equal(t, 24.0, first.X)
	assert.Equal(t, 24.0, first.Y)
}
