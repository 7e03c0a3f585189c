package main

import (
	"context"
	"errors"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type publisherFactory func(topic string) publisher

// topicPublishers keeps one publisher per topic for the life of the relay.
type topicPublishers struct {
	mu      sync.Mutex
	build   publisherFactory
	byTopic map[string]publisher
}

func newTopicPublishers(build publisherFactory) *topicPublishers {
	return &topicPublishers{build: build, byTopic: map[string]publisher{}}
}

func (t *topicPublishers) get(topic string) publisher {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.byTopic[topic]; ok {
		return p
	}
	p := t.build(topic)
	if p != nil {
		t.byTopic[topic] = p
	}
	return p
}

// stop flushes and releases every publisher.
func (t *topicPublishers) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for topic, p := range t.byTopic {
		if s, ok := p.(interface{ Stop() }); ok {
			s.Stop()
		}
		delete(t.byTopic, topic)
	}
}

// pubsubPublisher adapts *gcppubsub.Publisher to publisher.
type pubsubPublisher struct {
	*gcppubsub.Publisher
}

func wrapPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return pubsubPublisher{Publisher: p}
}

func (p pubsubPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	res := p.Publisher.Publish(ctx, msg)
	if res == nil {
		return nil
	}
	return pubsubResult{res}
}

type pubsubResult struct {
	res *gcppubsub.PublishResult
}

func (r pubsubResult) Get(ctx context.Context) (string, error) {
	if r.res == nil {
		return "", errors.New("publish result is nil")
	}
	return r.res.Get(ctx)
}
