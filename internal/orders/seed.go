package orders

import (
	"context"

	"go.uber.org/zap"
)

// CatalogEntry is a product together with its opening stock.
type CatalogEntry struct {
	Product Product
	Stock   int
}

// DefaultCatalog is the demo catalog loaded by Seed.
var DefaultCatalog = []CatalogEntry{
	{Product{SKU: "CR-TSHIRT-01", Name: "Classic T-Shirt", Description: "Cotton crew neck t-shirt", PriceCents: 1999}, 100},
	{Product{SKU: "CR-JEANS-01", Name: "Slim Jeans", Description: "Dark wash slim fit jeans", PriceCents: 4999}, 50},
	{Product{SKU: "CR-SNEAK-01", Name: "Running Sneakers", Description: "Lightweight running shoes", PriceCents: 8999}, 25},
	{Product{SKU: "CR-CAP-01", Name: "Baseball Cap", Description: "Adjustable cotton cap", PriceCents: 1499}, 200},
	{Product{SKU: "CR-WATCH-01", Name: "Smart Watch", Description: "Fitness tracking smart watch", PriceCents: 19999}, 10},
}

// Seed inserts catalog when the products table is empty. It returns the
// number of products inserted.
func Seed(ctx context.Context, repo *Repository, catalog []CatalogEntry, logger *zap.Logger) (int, error) {
	n, err := repo.CountProducts(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Info("catalog already seeded", zap.Int("products", n))
		return 0, nil
	}

	for _, e := range catalog {
		p, err := repo.CreateProduct(ctx, e.Product, e.Stock)
		if err != nil {
			return 0, err
		}
		logger.Debug("seeded product", zap.Int64("id", p.ID), zap.String("sku", p.SKU), zap.Int("stock", e.Stock))
	}

	logger.Info("catalog seeded", zap.Int("products", len(catalog)))
	return len(catalog), nil
}
