package schedule

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "schedule")
