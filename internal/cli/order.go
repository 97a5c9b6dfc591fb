package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cloudretail/saga/internal/orders"
)

func newOrderCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place, inspect and cancel orders",
	}

	placeCmd := &cobra.Command{
		Use:   "place",
		Short: "Place an order through the saga",
		Long: `Place an order through the saga.

Examples:
  # Two units of product 1 and one of product 3
  retailsaga order place --user u1 --item 1:2 --item 3:1

  # Safe to retry: the second call replays the first result
  retailsaga order place --user u1 --item 1:2 --key checkout-42`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			key, _ := cmd.Flags().GetString("key")
			specs, _ := cmd.Flags().GetStringArray("item")

			items, err := parseItems(specs)
			if err != nil {
				return err
			}

			return a.withService(cmd.Context(), func(svc *orders.Service) error {
				p, replayed, err := svc.PlaceOrder(cmd.Context(), key, orders.PlaceOrderRequest{UserID: user, Items: items})
				if err != nil {
					return err
				}
				if replayed {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "replayed earlier result for key", key)
				}
				return printJSON(cmd, p)
			})
		},
	}
	placeCmd.Flags().StringP("user", "u", "", "User placing the order (required)")
	placeCmd.Flags().StringArrayP("item", "i", nil, "Item as product_id:quantity, repeatable (required)")
	placeCmd.Flags().StringP("key", "k", "", "Idempotency key")
	_ = placeCmd.MarkFlagRequired("user")
	_ = placeCmd.MarkFlagRequired("item")

	getCmd := &cobra.Command{
		Use:   "get ORDER_ID",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *orders.Service) error {
				o, err := svc.GetOrder(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd, o)
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, _ := cmd.Flags().GetString("user")
			return a.withService(cmd.Context(), func(svc *orders.Service) error {
				list, err := svc.ListUserOrders(cmd.Context(), user)
				if err != nil {
					return err
				}
				return printJSON(cmd, list)
			})
		},
	}
	listCmd.Flags().StringP("user", "u", "", "User whose orders to list (required)")
	_ = listCmd.MarkFlagRequired("user")

	cancelCmd := &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel an order by rolling back its saga",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return a.withService(cmd.Context(), func(svc *orders.Service) error {
				o, err := svc.CancelOrder(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd, o)
			})
		},
	}

	productsCmd := &cobra.Command{
		Use:   "products",
		Short: "List products with their stock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withService(cmd.Context(), func(svc *orders.Service) error {
				products, err := svc.ListProducts(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, products)
			})
		},
	}

	cmd.AddCommand(placeCmd, getCmd, listCmd, cancelCmd, productsCmd)
	return cmd
}

func (a *app) withService(ctx context.Context, fn func(svc *orders.Service) error) error {
	env, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	return fn(env.svc)
}

// parseItems parses product_id:quantity pairs.
func parseItems(specs []string) ([]orders.Item, error) {
	items := make([]orders.Item, 0, len(specs))
	for _, spec := range specs {
		idPart, qtyPart, ok := strings.Cut(spec, ":")
		if !ok {
			qtyPart = "1"
		}

		id, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid item %q: bad product id", spec)
		}
		qty, err := strconv.Atoi(qtyPart)
		if err != nil {
			return nil, fmt.Errorf("invalid item %q: bad quantity", spec)
		}
		items = append(items, orders.Item{ProductID: id, Quantity: qty})
	}
	return items, nil
}

func parseOrderID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid order id %q: %w", s, err)
	}
	return id, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
