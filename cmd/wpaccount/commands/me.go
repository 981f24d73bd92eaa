package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Amund211/wpaccount/internal/adapters/accountprovider"
	"github.com/Amund211/wpaccount/internal/app"
	"github.com/Amund211/wpaccount/internal/domain"
	"github.com/Amund211/wpaccount/internal/ports"
)

func meCmd() *cobra.Command {
	var (
		token   string
		baseURL string
		raw     bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "me",
		Short: "Print the account details of the token's owner as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("WPCOM_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("%w: pass --token or set WPCOM_TOKEN", domain.ErrMissingToken)
			}

			httpClient := &http.Client{
				Timeout:   timeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			}
			provider, err := accountprovider.NewWordPressCom(httpClient, baseURL, time.Now, time.After)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var details domain.UserDetails
			var callErr error
			remote := app.NewAccountServiceRemote(provider.GetUserDetails, token)
			remote.GetUserDetails(
				ctx,
				func(result domain.UserDetails) {
					details = result
				},
				func(err error) {
					callErr = err
				},
			)
			remote.Wait()

			if callErr != nil {
				if errors.Is(callErr, context.DeadlineExceeded) {
					return fmt.Errorf("timed out after %s: %w", timeout, callErr)
				}
				return callErr
			}

			var output any = ports.UserResponseFromDomain(details)
			if raw {
				output = details.Raw
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(output)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bearer token (default $WPCOM_TOKEN)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "REST API base URL (default https://public-api.wordpress.com/rest/v1.1)")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the full /me response instead of the typed fields")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	return cmd
}
