package services

import (
	"time"

	"roomview/internal/core/domain"
	"roomview/internal/core/ports"
)

type nopMetrics struct{}

func (nopMetrics) StartAttempt()                    {}
func (nopMetrics) StartSucceeded(time.Duration)     {}
func (nopMetrics) StartFailed(string)               {}
func (nopMetrics) Teardown(string)                  {}
func (nopMetrics) SetStreaming(bool)                {}
func (nopMetrics) ConsumerCreated(domain.MediaKind) {}
func (nopMetrics) ConsumerFailed()                  {}

var _ ports.SessionMetrics = nopMetrics{}
