// Package auth implements the authentication waterfall for the gateway:
// session cookie → legacy bearer token → anonymous guest. Providers are
// walked in registration order by a chain; the first match wins and the
// cookie leg always registers ahead of the legacy leg.
package auth

import "github.com/kurolabs/kuro-gateway/pkg/models"

// tierGrant is one row of the fixed tier table.
type tierGrant struct {
	role  models.Role
	level int
	caps  []models.Capability
}

// Elevated capabilities (write, exec) are never granted to free.
var tierTable = map[models.Tier]tierGrant{
	models.TierFree: {
		role:  models.RoleViewer,
		level: 1,
		caps:  []models.Capability{models.CapRead},
	},
	models.TierPro: {
		role:  models.RoleAnalyst,
		level: 2,
		caps:  []models.Capability{models.CapRead, models.CapWrite, models.CapCompute},
	},
	models.TierSovereign: {
		role:  models.RoleOperator,
		level: 3,
		caps: []models.Capability{
			models.CapRead, models.CapWrite, models.CapExec,
			models.CapCompute, models.CapAggregate,
		},
	},
}

// CallerForTier builds an authenticated caller from the fixed tier table.
func CallerForTier(userID string, tier models.Tier, method models.AuthMethod) *models.Caller {
	grant, ok := tierTable[tier]
	if !ok {
		tier = models.TierFree
		grant = tierTable[models.TierFree]
	}
	caps := make(map[models.Capability]bool, len(grant.caps))
	for _, c := range grant.caps {
		caps[c] = true
	}
	return &models.Caller{
		UserID:       userID,
		Tier:         tier,
		Role:         grant.role,
		Level:        grant.level,
		Capabilities: caps,
		IsGuest:      false,
		AuthMethod:   method,
	}
}

// GuestCaller is the identity of an unresolved request.
func GuestCaller(fingerprint string) *models.Caller {
	return &models.Caller{
		UserID:       "",
		Tier:         models.TierFree,
		Role:         models.RoleGuest,
		Level:        0,
		Capabilities: map[models.Capability]bool{models.CapRead: true},
		IsGuest:      true,
		AuthMethod:   models.AuthNone,
		Fingerprint:  fingerprint,
	}
}
