// Package health scores backend subnets and raises deduplicated alerts.
//
// A fixed-interval sampler pulls one Score per registered subnet per tick;
// scores can also be pushed directly with UpdateSubnetHealth. Each new
// score runs through the alert rules. An unacknowledged alert of the same
// (subnet, type) within the cooldown window suppresses duplicates.
package health
