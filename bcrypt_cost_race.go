//go:build race

package market

import "golang.org/x/crypto/bcrypt"

func passwordHashCost() int {
	return bcrypt.MinCost
}
