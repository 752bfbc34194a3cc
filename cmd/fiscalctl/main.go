// cmd/fiscalctl/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"fiscal-service/internal/core/extract"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fiscalctl",
		Short: "Conciliação fiscal pela linha de comando",
		Long: `fiscalctl cruza a escrituração (planilhas ou SPED) com os XMLs de NF-e/CT-e,
audita a sequência das notas de saída e confere CFOP x UF sem subir o servidor.

Toda flag também pode vir de uma variável FISCALCTL_<FLAG>, por exemplo
FISCALCTL_HOME_UF=SC ou FISCALCTL_COMPANY_CNPJ=11222333000144.`,
		SilenceUsage:      true,
		PersistentPreRunE: initConfig,
	}

	root.PersistentFlags().String("company-cnpj", "", "CNPJ da empresa (define quais XMLs são saídas)")
	root.PersistentFlags().String("return-category", extract.CategoryOwnIssuanceReturn,
		"espécie que identifica devoluções de emissão própria na escrituração")
	root.PersistentFlags().BoolP("verbose", "v", false, "exibe logs detalhados")

	root.AddCommand(reconcileCmd())
	root.AddCommand(sequenceCmd())
	root.AddCommand(checkCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig binds the flags of the running command to viper so each one can
// also be set through the environment.
func initConfig(cmd *cobra.Command, _ []string) error {
	viper.SetEnvPrefix("FISCALCTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("erro ao ler flags: %w", err)
	}
	return nil
}

func newLogger() *zap.Logger {
	if !viper.GetBool("verbose") {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
