package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/MoikasLabs/realm.shalohm.co-sub001/internal/config"
)

func TestNew_Levels(t *testing.T) {
	cases := []struct {
		cfg  config.LoggingConfig
		want zapcore.Level
	}{
		{config.LoggingConfig{Level: "debug", Format: "console"}, zapcore.DebugLevel},
		{config.LoggingConfig{Level: "warn", Format: "json"}, zapcore.WarnLevel},
		{config.LoggingConfig{Level: "loud", Format: "json"}, zapcore.InfoLevel},
	}
	for _, tc := range cases {
		log, err := New(tc.cfg)
		if err != nil {
			t.Fatalf("New(%+v): %v", tc.cfg, err)
		}
		if !log.Core().Enabled(tc.want) {
			t.Fatalf("New(%+v): level %s disabled", tc.cfg, tc.want)
		}
		if tc.want > zapcore.DebugLevel && log.Core().Enabled(tc.want-1) {
			t.Fatalf("New(%+v): level %s enabled, want %s minimum", tc.cfg, tc.want-1, tc.want)
		}
	}
}
