package meeting

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "meeting")
