package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors for the room service. Registered on the default registry and
// exposed by the transport's /metrics endpoint.
var (
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crowdplay",
		Name:      "rooms_created_total",
		Help:      "Rooms created since process start.",
	})

	PlayersJoined = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crowdplay",
		Name:      "players_joined_total",
		Help:      "Players admitted into rooms.",
	})

	AnswersScored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crowdplay",
		Name:      "answers_scored_total",
		Help:      "Scored answer submissions by grading result.",
	}, []string{"result"})

	SubmissionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "crowdplay",
		Name:      "submissions_rejected_total",
		Help:      "Answer submissions rejected before scoring, by error code.",
	}, []string{"code"})

	GamesEnded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "crowdplay",
		Name:      "games_ended_total",
		Help:      "Rooms moved to their terminal state.",
	})
)
