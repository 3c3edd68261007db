package jobs

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// DefaultTenant is the tenant used when callers pass an empty tenant id.
const DefaultTenant = ""

// Fingerprint hashes a job identity into the stable key used across the
// backing-store sets. Identity components are separated by NUL so that
// ("a", "bc") and ("ab", "c") never collide.
func Fingerprint(tenant, queue, id string) string {
	digest := xxhash.New()
	_, _ = digest.WriteString(tenant)
	_, _ = digest.Write([]byte{0})
	_, _ = digest.WriteString(queue)
	_, _ = digest.Write([]byte{0})
	_, _ = digest.WriteString(id)
	return strconv.FormatUint(digest.Sum64(), 16)
}

type keySpace struct {
	prefix string
}

func newKeySpace(prefix string) keySpace {
	return keySpace{prefix: strings.TrimRight(strings.TrimSpace(prefix), ":")}
}

func (k keySpace) scheduledKey(tenant string) string {
	return k.prefix + ":scheduled:" + tenant
}

func (k keySpace) pendingKey(tenant string) string {
	return k.prefix + ":pending:" + tenant
}

func (k keySpace) processingKey(tenant string) string {
	return k.prefix + ":processing:" + tenant
}

func (k keySpace) jobKey(fingerprint string) string {
	return k.prefix + ":job:" + fingerprint
}

func (k keySpace) idsKey(tenant, queue string) string {
	return k.prefix + ":ids:" + tenant + ":" + queue
}

func (k keySpace) tenantsKey() string {
	return k.prefix + ":tenants"
}

func (k keySpace) seqKey() string {
	return k.prefix + ":seq"
}

func (k keySpace) activityChannel(eventType string) string {
	return k.prefix + ":activity:" + eventType
}

func (k keySpace) activityPattern() string {
	return k.prefix + ":activity:*"
}

func (k keySpace) wakeChannel(tenant string) string {
	return k.prefix + ":wake:" + tenant
}

func (k keySpace) eventTypeFromChannel(channel string) string {
	return strings.TrimPrefix(channel, k.prefix+":activity:")
}
