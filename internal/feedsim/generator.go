package feedsim

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/okian/livetables/internal/domain/classify"
)

// tableNames are cycled to name simulated tables.
var tableNames = []string{ //nolint:gochecknoglobals // fixed fixture data
	"Auto Roulette", "Lightning Roulette", "Immersive Roulette", "Speed Roulette",
	"XXXtreme Lightning", "Gold Vault", "Red Door", "Quantum Roulette",
	"Mega Roulette", "Roulette Macao", "Bucharest Roulette", "VIP Roulette",
}

// randomInt returns a uniform value in [0, n) using crypto/rand.
func randomInt(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// randomOutcome draws one pocket.
func randomOutcome() int {
	return randomInt(classify.MaxValue + 1)
}

// tableID returns the id of the i-th simulated table.
func tableID(i int) string {
	return fmt.Sprintf("table-%02d", i+1)
}

// tableName returns the display name of the i-th simulated table.
func tableName(i int) string {
	name := tableNames[i%len(tableNames)]
	if i >= len(tableNames) {
		name = fmt.Sprintf("%s %d", name, i/len(tableNames)+1)
	}
	return name
}
