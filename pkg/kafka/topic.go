package kafka

// TopicPrefix namespaces every ProjectHub topic.
const TopicPrefix = "projecthub"

// Topic builds a topic name of the form "projecthub.<domain>.<action>".
func Topic(domain, action string) string {
	return TopicPrefix + "." + domain + "." + action
}
