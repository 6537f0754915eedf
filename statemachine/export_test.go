package statemachine

import "github.com/prometheus/client_golang/prometheus"

func FiresTotalCollector() prometheus.Collector { return firesTotal }
