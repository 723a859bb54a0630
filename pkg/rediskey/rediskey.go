package rediskey

import "fmt"

// Key prefixes shared by every process talking to the same redis.
const (
	SchedulerLockPrefix = "scheduler:lock"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildSchedulerLockKey returns "scheduler:lock:{job}:{day}"
func BuildSchedulerLockKey(job, day string) string {
	return NamespaceKey(SchedulerLockPrefix, job+":"+day)
}
