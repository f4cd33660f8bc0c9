package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/gridflow/gridflow/pkg/extent"
	"github.com/gridflow/gridflow/pkg/filters"
	"github.com/gridflow/gridflow/pkg/pipeline"
	"github.com/gridflow/gridflow/pkg/stores"
)

// ExampleNewSQLiteStore creates and migrates an in-memory store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleRecorder records the history of a pull.
func ExampleRecorder() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	rec := stores.NewRecorder(store, "example")
	src := pipeline.MustNew(filters.NewWaveletSource(extent.New(0, 7, 0, 7, 0, 0)), pipeline.WithName("wavelet"))
	sink := pipeline.MustNew(filters.NewHistogram(filters.WaveletArray, 4),
		pipeline.WithName("histogram"),
		pipeline.WithInstrumentation(rec))
	if err := sink.SetInputConnection(0, src.OutputPort(0)); err != nil {
		log.Fatal(err)
	}
	if err := sink.Update(ctx); err != nil {
		log.Fatal(err)
	}

	pulls, _ := store.ListPulls(ctx, nil, 10, 0)
	execs, _ := store.ListExecutions(ctx, pulls[0].ID)
	fmt.Println(pulls[0].Terminal, pulls[0].Status, pulls[0].Executed)
	for _, e := range execs {
		if e.Phase == string(pipeline.RequestData) {
			fmt.Println(e.Node, e.Outcome)
		}
	}
	// Output:
	// histogram succeeded 2
	// wavelet succeeded
	// histogram succeeded
}
