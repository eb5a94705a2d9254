// Package publish hands finished clips to the hosting platform and fans
// the resulting permanent reference out to downstream consumers.
//
// Publishing is the pipeline's last durable step: a clip is only Published
// once the platform has returned its reference. Fan-out is strictly best
// effort and gracefully degrades to a no-op when no relay is configured;
// a failed announcement never changes the job's fate.
package publish
