package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gpaw",
	Short: "Finite-difference stencil operators on distributed 3D grids",
	Long: `
Applies and relaxes finite-difference stencils on block-decomposed 3D
grids, with halo exchange between the slabs and optional offload of the
inner kernels to an OCCA device.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
