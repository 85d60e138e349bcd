package stream

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
)

// TestMain quiets the structured logger so decode-path logging does not
// drown test output.
func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	os.Exit(m.Run())
}
