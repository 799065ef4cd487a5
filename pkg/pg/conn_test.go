package pg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "defaults sslmode",
			cfg:  Config{Host: "db", Port: "5432", User: "guard", Password: "secret", Database: "transactions"},
			want: "host=db port=5432 user=guard password=secret dbname=transactions sslmode=disable TimeZone=UTC",
		},
		{
			name: "quotes special characters",
			cfg:  Config{Host: "db", User: "guard", Password: `it's a pass\word`, Database: "tx", SSLMode: "require"},
			want: `host=db user=guard password='it\'s a pass\\word' dbname=tx sslmode=require TimeZone=UTC`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}
