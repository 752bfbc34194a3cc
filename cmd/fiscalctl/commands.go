// cmd/fiscalctl/commands.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"fiscal-service/internal/core/extract"
	"fiscal-service/internal/core/session"
	"fiscal-service/internal/core/workflow"
	"fiscal-service/internal/storage"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cliCompetence labels runs started without an explicit competence.
const cliCompetence = "linha-de-comando"

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Concilia a escrituração com os XMLs",
		Long: `Concilia a escrituração com os XMLs e grava o resultado em uma planilha.

Exemplos:
  fiscalctl reconcile --ledger entradas.xlsx --xml notas.zip --competence 2024-01 --out conciliacao.xlsx
  fiscalctl reconcile --ledger sped.txt --xml a.xml --xml b.xml --company-cnpj 11222333000144`,
		RunE: runReconcile,
	}
	cmd.Flags().StringSlice("ledger", nil, "arquivos de escrituração (xlsx, xls, csv ou SPED)")
	cmd.Flags().StringSlice("xml", nil, "XMLs de NF-e/CT-e ou arquivos .zip")
	cmd.Flags().String("competence", cliCompetence, "competência do processamento")
	cmd.Flags().String("home-uf", "PR", "UF da empresa")
	cmd.Flags().String("out", "conciliacao.xlsx", "planilha de saída")
	cmd.Flags().StringSlice("ignore-cfop", nil, "CFOPs sem comparação de ICMS")
	return cmd
}

func sequenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sequence",
		Short: "Audita a sequência das notas de saída",
		RunE:  runSequence,
	}
	cmd.Flags().StringSlice("xml", nil, "XMLs de NF-e ou arquivos .zip")
	cmd.Flags().Int64("last", 0, "última nota declarada no período anterior")
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Confere CFOP x UF e totaliza impostos da escrituração",
		RunE:  runCheck,
	}
	cmd.Flags().StringSlice("ledger", nil, "arquivos de escrituração (xlsx, xls, csv ou SPED)")
	cmd.Flags().String("home-uf", "PR", "UF da empresa")
	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ledgerFiles, err := loadFiles(viper.GetStringSlice("ledger"))
	if err != nil {
		return err
	}
	xmlFiles, err := loadFiles(viper.GetStringSlice("xml"))
	if err != nil {
		return err
	}

	doc, svc, err := process(cmd.Context(), viper.GetString("home-uf"), workflow.Request{
		Competence:   viper.GetString("competence"),
		LedgerFiles:  ledgerFiles,
		XMLFiles:     xmlFiles,
		IgnoredCFOPs: viper.GetStringSlice("ignore-cfop"),
	})
	if err != nil {
		return err
	}

	out := viper.GetString("out")
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("erro ao criar %s: %w", out, err)
	}
	if err := svc.WriteWorkbook(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("erro ao gravar %s: %w", out, err)
	}

	w := cmd.OutOrStdout()
	data := doc.ProcessedData
	fmt.Fprintf(w, "Entradas: %d conciliadas, %d somente XML, %d categorias somente na escrituração\n",
		len(data.Entradas.Matched), len(data.Entradas.LeftOnly), len(data.Entradas.Categories))
	fmt.Fprintf(w, "Saídas:   %d conciliadas, %d somente XML\n", len(data.Saidas.Matched), len(data.Saidas.LeftOnly))
	fmt.Fprintf(w, "Devoluções de emissão própria: %d\n", len(data.Entradas.OwnIssuanceReturns)+len(data.Saidas.OwnIssuanceReturns))
	printFileErrors(w, data.FileErrors)
	printWarnings(w, data.Warnings)
	fmt.Fprintf(w, "Planilha gravada em %s\n", out)
	return nil
}

func runSequence(cmd *cobra.Command, _ []string) error {
	xmlFiles, err := loadFiles(viper.GetStringSlice("xml"))
	if err != nil {
		return err
	}
	doc, _, err := process(cmd.Context(), "", workflow.Request{
		Competence:      cliCompetence,
		LastSaidaNumber: viper.GetInt64("last"),
		XMLFiles:        xmlFiles,
	})
	if err != nil {
		return err
	}

	seq := doc.ProcessedData.Sequence
	w := cmd.OutOrStdout()
	printFileErrors(w, doc.ProcessedData.FileErrors)
	printWarnings(w, doc.ProcessedData.Warnings)
	if seq.OutOfRange {
		return nil
	}
	if len(seq.Positions) == 0 {
		fmt.Fprintln(w, "Nenhuma nota de saída a auditar")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NÚMERO\tSTATUS")
	for _, p := range seq.Positions {
		fmt.Fprintf(tw, "%d\t%s\n", p.Number, p.Status)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if seq.FirstNumberAfterGap != nil {
		fmt.Fprintf(w, "Primeira nota após o intervalo: %d\n", *seq.FirstNumberAfterGap)
	}
	for _, d := range seq.Duplicates {
		fmt.Fprintf(w, "Número %d aparece %d vezes\n", d.Number, d.Count)
	}
	return nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ledgerFiles, err := loadFiles(viper.GetStringSlice("ledger"))
	if err != nil {
		return err
	}
	doc, _, err := process(cmd.Context(), viper.GetString("home-uf"), workflow.Request{
		Competence:  cliCompetence,
		LedgerFiles: ledgerFiles,
	})
	if err != nil {
		return err
	}

	report := doc.ProcessedData.Consistency
	w := cmd.OutOrStdout()
	if len(report.CFOPUFInconsistencies) == 0 {
		fmt.Fprintln(w, "Nenhuma inconsistência de CFOP x UF")
	} else {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NOTA\tCNPJ\tUF\tCFOP\tSUGERIDO")
		for _, f := range report.CFOPUFInconsistencies {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.DocumentNumber, f.TaxID, f.CounterpartyUF, f.CFOP, f.SuggestedCFOP)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	t := report.TaxTotals
	fmt.Fprintf(w, "ICMS %s | ICMS-ST %s | IPI %s | PIS %s | COFINS %s\n",
		t.ICMS.Total.StringFixed(2), t.ICMSST.Total.StringFixed(2), t.IPI.Total.StringFixed(2),
		t.PIS.Total.StringFixed(2), t.COFINS.Total.StringFixed(2))
	printFileErrors(w, doc.ProcessedData.FileErrors)
	return nil
}

// process runs the same orchestration as the server over an in-memory store.
func process(ctx context.Context, homeUF string, req workflow.Request) (session.Document, workflow.Service, error) {
	repo := session.NewRepository(storage.NewMemory(0), newLogger())
	svc := workflow.NewService(workflow.Options{
		CompanyTaxID:   viper.GetString("company-cnpj"),
		HomeUF:         homeUF,
		ReturnCategory: viper.GetString("return-category"),
	}, repo, newLogger())
	doc, err := svc.Process(ctx, req)
	if err != nil {
		return session.Document{}, nil, err
	}
	return doc, svc, nil
}

func loadFiles(paths []string) ([]extract.File, error) {
	files := make([]extract.File, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("erro ao ler %s: %w", p, err)
		}
		files = append(files, extract.File{Name: filepath.Base(p), Content: content})
	}
	return files, nil
}

func printWarnings(w io.Writer, warnings []string) {
	for _, msg := range warnings {
		fmt.Fprintf(w, "Atenção: %s\n", msg)
	}
}

func printFileErrors(w io.Writer, errs []extract.FileError) {
	for _, fe := range errs {
		fmt.Fprintf(w, "Arquivo ignorado: %s\n", fe.Error())
	}
}
