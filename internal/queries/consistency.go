package queries

import (
	"github.com/gocql/gocql"

	"github.com/astarte-platform/astarte-data-updater-plant/internal/model"
)

// DataConsistency picks the consistency level a value-insert query runs at,
// per spec.md §4.2.3's consistency-selection table.
func DataConsistency(ifaceType model.InterfaceType, reliability model.Reliability, retention model.Retention) gocql.Consistency {
	if ifaceType == model.InterfaceTypeProperties {
		return gocql.Quorum
	}
	if reliability == model.ReliabilityGuaranteed && retention == model.RetentionStored {
		return gocql.LocalQuorum
	}
	if reliability == model.ReliabilityUnreliable {
		return gocql.Any
	}
	return gocql.One
}

// PathConsistency picks the consistency level a path-registry insert runs
// at: ONE for unreliable mappings, LOCAL_QUORUM otherwise.
func PathConsistency(reliability model.Reliability) gocql.Consistency {
	if reliability == model.ReliabilityUnreliable {
		return gocql.One
	}
	return gocql.LocalQuorum
}
