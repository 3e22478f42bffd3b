package service

import "time"

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func timePtr(t time.Time) *time.Time { return &t }
