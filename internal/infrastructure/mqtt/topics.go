package mqtt

import "strings"

// TopicPrefix is the root of every hwsim topic.
const TopicPrefix = "hwsim"

// Topics builds hwsim topic names. The identity segment of request and
// reply topics is the client identity the dispatcher sees.
//
//	hwsim/request/{identity}   client → simulator
//	hwsim/reply/{identity}     simulator → client
//	hwsim/system/status        retained online/offline status (LWT)
type Topics struct{}

// Request returns the topic a client publishes requests on.
func (Topics) Request(identity string) string {
	return TopicPrefix + "/request/" + identity
}

// AllRequests matches every client's request topic.
func (Topics) AllRequests() string {
	return TopicPrefix + "/request/+"
}

// Reply returns the topic replies to identity are published on.
func (Topics) Reply(identity string) string {
	return TopicPrefix + "/reply/" + identity
}

// SystemStatus returns the retained status topic.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// Broadcast is reserved. Nothing publishes or subscribes to it.
func (Topics) Broadcast() string {
	return TopicPrefix + "/broadcast"
}

// IdentityFromRequest extracts the identity from a request topic. It
// rejects empty identities and identities containing further levels.
func (Topics) IdentityFromRequest(topic string) (string, bool) {
	identity, ok := strings.CutPrefix(topic, TopicPrefix+"/request/")
	if !ok || identity == "" || strings.Contains(identity, "/") {
		return "", false
	}
	return identity, true
}

// ValidIdentity reports whether identity can be used as a topic level.
func ValidIdentity(identity string) bool {
	return identity != "" && !strings.ContainsAny(identity, "/+#")
}
