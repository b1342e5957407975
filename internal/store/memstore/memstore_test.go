package memstore_test

import (
	"testing"

	"github.com/felo/emailparser/internal/store"
	"github.com/felo/emailparser/internal/store/memstore"
	"github.com/felo/emailparser/internal/store/storetesting"
)

func TestStore(t *testing.T) {
	storetesting.TestStore(t, func(t *testing.T) store.Store {
		return memstore.New()
	})
}
