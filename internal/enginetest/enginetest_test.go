package enginetest_test

import (
	"testing"

	engine "github.com/eventengine/eventengine"
	"github.com/eventengine/eventengine/internal/enginetest"
	"github.com/eventengine/eventengine/repository/lsmrepo"
	"github.com/eventengine/eventengine/repository/memrepo"
)

func TestMemRepoCompliance(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) engine.Repository {
		return memrepo.New(16)
	})
}

func TestLSMRepoCompliance(t *testing.T) {
	enginetest.Run(t, func(t *testing.T) engine.Repository {
		r, err := lsmrepo.Open(lsmrepo.Options{InMemory: true, PartitionCount: 16})
		if err != nil {
			t.Fatalf("open lsmrepo: %v", err)
		}
		t.Cleanup(func() { _ = r.Close() })
		return r
	})
}
