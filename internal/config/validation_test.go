package config_test

import (
	"errors"
	"testing"

	"github.com/umutsun/asemb/internal/config"

	"github.com/stretchr/testify/assert"
)

func validConfig() config.Config {
	return config.Config{
		DBHost:        "localhost",
		DBUser:        "user",
		DBName:        "db",
		EmbeddingDim:  768,
		ChunkMaxChars: 1000,
		ChunkOverlap:  100,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
		errIs   error
	}{
		{
			name:   "Valid Config",
			mutate: func(*config.Config) {},
		},
		{
			name:    "Missing DBHost",
			mutate:  func(c *config.Config) { c.DBHost = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing DBUser",
			mutate:  func(c *config.Config) { c.DBUser = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing DBName",
			mutate:  func(c *config.Config) { c.DBName = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Zero Embedding Dimension",
			mutate:  func(c *config.Config) { c.EmbeddingDim = 0 },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Overlap Not Below MaxChars",
			mutate:  func(c *config.Config) { c.ChunkOverlap = 1000 },
			wantErr: true,
		},
		{
			name:    "Negative Search Weight",
			mutate:  func(c *config.Config) { c.SearchBM25Weight = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errIs != nil {
					assert.True(t, errors.Is(err, tt.errIs))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
