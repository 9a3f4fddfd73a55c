package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	t.Run("local host has no TLS and defaults port and name", func(t *testing.T) {
		dsn := DSN(Config{Host: "127.0.0.1", User: "root"})
		assert.Equal(t, "root:@tcp(127.0.0.1:4000)/nexusflow?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true", dsn)
	})

	t.Run("remote host uses the registered TLS config", func(t *testing.T) {
		dsn := DSN(Config{Host: "gateway.example.com", Port: "3306", User: "app", Password: "pw", Database: "flows"})
		assert.Equal(t, "app:pw@tcp(gateway.example.com:3306)/flows?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true&tls=tidb", dsn)
	})
}
