package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tributary/internal/packages"
)

func newPackagesCommand(ctx *commandContext) *cobra.Command {
	packagesCmd := &cobra.Command{
		Use:   "packages",
		Short: "Inspect tracked packages",
	}

	packagesCmd.AddCommand(newPackagesListCommand(ctx))
	packagesCmd.AddCommand(newPackagesShowCommand(ctx))

	return packagesCmd
}

func newPackagesListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	var sinceFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packages and their pipeline position",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			filter := packages.ListFilter{}
			if statusFlag != "" {
				status, ok := packages.ParseStatus(statusFlag)
				if !ok {
					return fmt.Errorf("unknown status %q", statusFlag)
				}
				filter.Statuses = []packages.ProcessStatus{status}
			}
			if sinceFlag != "" {
				since, err := time.Parse(time.RFC3339, sinceFlag)
				if err != nil {
					return fmt.Errorf("--updated-since must be RFC 3339: %w", err)
				}
				filter.UpdatedSince = since
			}

			listed, err := rt.store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(listed) == 0 {
				fmt.Fprintln(out, "No packages found.")
				return nil
			}

			rows := make([][]string, 0, len(listed))
			for _, pkg := range listed {
				rows = append(rows, []string{
					strconv.FormatInt(pkg.ID, 10),
					pkg.BagIdentifier,
					string(pkg.Origin),
					string(pkg.Type),
					string(pkg.ProcessStatus),
					pkg.UpdatedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Bag", "Origin", "Type", "Status", "Updated"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Only show packages at this status")
	cmd.Flags().StringVar(&sinceFlag, "updated-since", "", "Only show packages updated at or after this RFC 3339 time")
	return cmd
}

func newPackagesShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one package in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("package id must be an integer: %q", args[0])
			}

			rt, err := ctx.buildRuntime()
			if err != nil {
				return err
			}
			defer rt.close()

			pkg, err := rt.store.GetByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			if pkg == nil {
				return fmt.Errorf("package %d not found", id)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Package %d\n", pkg.ID)
			fmt.Fprintf(out, "  Bag identifier:  %s\n", pkg.BagIdentifier)
			fmt.Fprintf(out, "  Origin:          %s\n", pkg.Origin)
			fmt.Fprintf(out, "  Type:            %s\n", pkg.Type)
			fmt.Fprintf(out, "  Status:          %s (%s)\n", pkg.ProcessStatus, pkg.ProcessStatus.Label())
			fmt.Fprintf(out, "  Terminal:        %t\n", pkg.IsTerminal())
			printRef(out, "Origin accession", pkg.OriginAccessionRef)
			printRef(out, "Origin transfer", pkg.OriginTransferRef)
			printRef(out, "Catalog accession", pkg.CatalogAccessionRef)
			printRef(out, "Catalog resource", pkg.CatalogResourceRef)
			printRef(out, "Catalog group", pkg.CatalogGroupRef)
			printRef(out, "Catalog transfer", pkg.CatalogTransferRef)
			printRef(out, "Source accession", pkg.SourceAccessionRef)
			printRef(out, "Storage URI", pkg.StorageURI)
			fmt.Fprintf(out, "  Created:         %s\n", pkg.CreatedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "  Updated:         %s\n", pkg.UpdatedAt.Local().Format(time.RFC3339))
			return nil
		},
	}
}

func printRef(out io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(out, "  %-16s %s\n", label+":", value)
}
