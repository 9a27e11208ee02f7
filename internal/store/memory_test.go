package store_test

import (
	"testing"

	"github.com/maazmalik2004/Dspace/internal/store"
	"github.com/maazmalik2004/Dspace/internal/store/storetest"
)

func TestMemory(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.DirectoryStore {
		return store.NewMemory()
	})
}
