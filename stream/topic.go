package stream

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xraph/cuttrack/id"
)

// Topic names follow a pattern:
//
//	job:<jobID>   events for a specific job
//	jobs          all job events
//	firehose      everything, control events included

const (
	TopicJobs     = "jobs"
	TopicFirehose = "firehose"

	jobTopicPrefix = "job:"
)

// JobTopic returns the topic name for a specific job.
func JobTopic(jobID string) string { return jobTopicPrefix + jobID }

// TopicRegistry manages subscriber sets per topic.
// It is safe for concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		topics: make(map[string]map[string]*Subscriber),
	}
}

// Subscribe adds a subscriber to a topic, creating the topic if needed.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
	sub.addTopic(topic)
}

// Unsubscribe removes a subscriber from a topic. Empty topics are removed.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.unsubscribeLocked(topic, subscriberID)
}

func (tr *TopicRegistry) unsubscribeLocked(topic, subscriberID string) {
	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	if sub, exists := subs[subscriberID]; exists {
		sub.removeTopic(topic)
		delete(subs, subscriberID)
	}
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

// UnsubscribeAll removes a subscriber from all topics.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for topic := range tr.topics {
		tr.unsubscribeLocked(topic, subscriberID)
	}
}

// DropTopic removes a topic and every subscription to it.
func (tr *TopicRegistry) DropTopic(topic string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	for subID := range tr.topics[topic] {
		tr.unsubscribeLocked(topic, subID)
	}
}

// Broadcast sends an event to all subscribers on the given topics,
// delivering at most once to a subscriber listed on several of them.
// Closed subscribers found along the way are pruned from every topic and
// their IDs returned.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) (delivered int, pruned []string) {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for subID, sub := range tr.topics[topic] {
			seen[subID] = sub
		}
	}
	tr.mu.RUnlock()

	for subID, sub := range seen {
		if sub.Closed() {
			pruned = append(pruned, subID)
			continue
		}
		if sub.send(evt) {
			delivered++
		}
	}

	if len(pruned) > 0 {
		tr.mu.Lock()
		for _, subID := range pruned {
			for topic := range tr.topics {
				tr.unsubscribeLocked(topic, subID)
			}
		}
		tr.mu.Unlock()
	}
	return delivered, pruned
}

// TopicCount returns the number of active topics.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on a topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// resolveTopics returns all topics an event is published to.
func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}
	if evt.Type != EventResync {
		topics = append(topics, TopicJobs)
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return topics
}

// TopicJobID returns the job ID named by a job topic.
func TopicJobID(topic string) (string, bool) {
	jobID, ok := strings.CutPrefix(topic, jobTopicPrefix)
	return jobID, ok && jobID != ""
}

// ValidateTopic accepts the global topics and job topics naming a
// well-formed job ID.
func ValidateTopic(topic string) error {
	if topic == TopicJobs || topic == TopicFirehose {
		return nil
	}
	jobID, ok := TopicJobID(topic)
	if !ok {
		return fmt.Errorf("stream: invalid topic %q", topic)
	}
	if _, err := id.ParseJobID(jobID); err != nil {
		return fmt.Errorf("stream: invalid topic %q: %w", topic, err)
	}
	return nil
}
