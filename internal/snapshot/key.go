package snapshot

import (
	"strconv"
	"strings"
)

// keyPrefix namespaces every snapshot key to the upstream provider.
const keyPrefix = "cg"

// Resource versions. Bump one when the payload shape stored under it changes
// so old entries are ignored rather than decoded into the new shape.
const (
	detailVersion  = 2
	historyVersion = 1
	homeVersion    = 1
)

// Key identifies one snapshot: a logical resource, a data-shape version and
// an optional identity such as an asset id.
type Key struct {
	Resource string
	Version  int
	Identity string
}

// String renders the key as cg_<resource>_v<version>[_<identity>].
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(keyPrefix)
	b.WriteByte('_')
	b.WriteString(k.Resource)
	b.WriteString("_v")
	b.WriteString(strconv.Itoa(k.Version))
	if k.Identity != "" {
		b.WriteByte('_')
		b.WriteString(k.Identity)
	}
	return b.String()
}

// DetailKey is the key of the resolved record of one asset.
func DetailKey(id string) Key {
	return Key{Resource: "detail", Version: detailVersion, Identity: id}
}

// HistoryKey is the key of an asset's price series over the given window.
func HistoryKey(id string, days int) Key {
	return Key{Resource: "chart_" + strconv.Itoa(days) + "d", Version: historyVersion, Identity: id}
}

// HomeKey is the key of the top-N market list.
func HomeKey() Key {
	return Key{Resource: "home", Version: homeVersion}
}
