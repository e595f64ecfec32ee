package oracle

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "oracle")
