package bridge

import (
	"errors"
	"fmt"
	"strings"

	"udp-topic-bridge/internal/envelope"
)

// Route pairs an envelope (Topic, Type) with a bus topic. Inbound routes
// publish matching envelopes on BusTopic; outbound routes subscribe BusTopic
// and emit envelopes with Topic and Type.
type Route struct {
	Topic    string
	Type     string
	BusTopic string
}

func (r Route) String() string {
	return fmt.Sprintf("%s[%s]<->%s", r.Topic, r.Type, r.BusTopic)
}

type routeKey struct {
	topic string
	typ   string
}

func (r Route) key() routeKey { return routeKey{topic: r.Topic, typ: r.Type} }

// Routes is the bridge's route table.
type Routes struct {
	Inbound  []Route
	Outbound []Route
}

// DefaultRoutes returns the compiled-in table: envelopes on /chatter go to
// bus /chatter, and bus /listener goes back out as /listener envelopes.
func DefaultRoutes() Routes {
	return Routes{
		Inbound: []Route{
			{Topic: "/chatter", Type: envelope.TypeString, BusTopic: "/chatter"},
		},
		Outbound: []Route{
			{Topic: "/listener", Type: envelope.TypeString, BusTopic: "/listener"},
		},
	}
}

// Validate checks every route is complete, uses the supported type and that
// no inbound (topic, type) or outbound bus topic appears twice.
func (rs Routes) Validate() error {
	var errs []string

	seenIn := make(map[routeKey]bool)
	for i, r := range rs.Inbound {
		if err := r.validate(); err != nil {
			errs = append(errs, fmt.Sprintf("inbound[%d]: %v", i, err))
			continue
		}
		if seenIn[r.key()] {
			errs = append(errs, fmt.Sprintf("inbound[%d]: duplicate route for %s %s", i, r.Topic, r.Type))
		}
		seenIn[r.key()] = true
	}

	seenOut := make(map[string]bool)
	for i, r := range rs.Outbound {
		if err := r.validate(); err != nil {
			errs = append(errs, fmt.Sprintf("outbound[%d]: %v", i, err))
			continue
		}
		if seenOut[r.BusTopic] {
			errs = append(errs, fmt.Sprintf("outbound[%d]: duplicate subscription to %s", i, r.BusTopic))
		}
		seenOut[r.BusTopic] = true
	}

	if len(errs) > 0 {
		return errors.New("invalid routes: " + strings.Join(errs, "; "))
	}
	return nil
}

func (r Route) validate() error {
	switch {
	case r.Topic == "":
		return errors.New("topic is required")
	case r.BusTopic == "":
		return errors.New("bus_topic is required")
	case r.Type != envelope.TypeString:
		return fmt.Errorf("unsupported type %q (only %s)", r.Type, envelope.TypeString)
	}
	return nil
}
