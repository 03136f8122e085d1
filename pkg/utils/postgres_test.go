package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	c := PostgresPoolConfig{}.withDefaults()
	if c.MaxOpenConns != 25 || c.MaxIdleConns != 25 {
		t.Fatalf("unexpected pool sizes: %+v", c)
	}
	if c.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout: %s", c.PingTimeout)
	}

	custom := PostgresPoolConfig{MaxOpenConns: 4, ConnMaxLifetime: time.Minute}.withDefaults()
	if custom.MaxOpenConns != 4 || custom.ConnMaxLifetime != time.Minute {
		t.Fatalf("explicit values must be kept: %+v", custom)
	}
}

func TestOpenGorm_RequiresPool(t *testing.T) {
	if _, err := OpenGorm(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}
}
