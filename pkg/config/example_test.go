package config_test

import (
	"context"
	"fmt"

	"github.com/gridflow/gridflow/pkg/config"
	"github.com/gridflow/gridflow/pkg/filters"
)

func ExampleBuild() {
	d, err := config.ParseYAML([]byte(`
name: histogram
nodes:
  - name: src
    type: wavelet
    params:
      whole_extent: [0, 7, 0, 7, 0, 0]
  - name: hist
    type: histogram
    params:
      bins: 4
    inputs:
      - from: src
terminal:
  node: hist
`), "example.yaml")
	if err != nil {
		fmt.Println(err)
		return
	}

	b, err := config.Build(d, filters.DefaultRegistry())
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := b.Run(context.Background()); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(b.Order, d.Request.Mode, b.Terminal.Output(0).Extent())
	// Output: [src hist] data [0,3 0,0 0,0]
}

func ExampleCUEParser_ParseInline() {
	d, err := config.NewCUEParser().ParseInline(context.Background(), `
name: "info-only"
nodes: [{name: "src", type: "wavelet"}]
terminal: node: "src"
request: mode: "information"
`)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(d.Name, d.Request.Mode, d.Request.Pieces, d.Terminal)
	// Output: info-only information 1 src:0
}
