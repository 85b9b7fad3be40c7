//go:build !race

package market

func passwordHashCost() int {
	return 12
}
