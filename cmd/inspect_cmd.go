package cmd

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clanwyse/halo/internal/conf"
	"github.com/clanwyse/halo/internal/models"
)

var inspectCmd = cobra.Command{
	Use: "inspect",
	Run: func(cmd *cobra.Command, args []string) {
		execWithConfig(cmd, inspect)
	},
}

type roleSummary struct {
	Role          models.Role `json:"role"`
	Priority      int         `json:"priority"`
	Weight        string      `json:"weight"`
	MaxPopulation int         `json:"max_population,omitempty"`
}

// inspect prints the effective governance parameters: the pool table after
// environment overrides and the fixed role hierarchy.
func inspect(config *conf.GovernanceConfiguration) {
	summary := struct {
		Pools      map[string]conf.PoolConfiguration `json:"pools"`
		Roles      []roleSummary                     `json:"roles"`
		Burn       conf.BurnConfiguration            `json:"burn"`
		Delegation conf.DelegationConfiguration      `json:"delegation"`
	}{
		Pools:      map[string]conf.PoolConfiguration{},
		Burn:       config.Burn,
		Delegation: config.Delegation,
	}
	for _, name := range config.Pools.Names() {
		pool, _ := config.Pools.Pool(name)
		summary.Pools[name] = *pool
	}
	for _, role := range models.AllRoles() {
		summary.Roles = append(summary.Roles, roleSummary{
			Role:          role,
			Priority:      role.Priority(),
			Weight:        role.Weight().String(),
			MaxPopulation: role.MaxPopulation(),
		})
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(summary); err != nil {
		logrus.Fatalf("Failed to encode configuration: %+v", err)
	}
}
