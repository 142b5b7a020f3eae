// Package notify emails the subscriber mailing list when a new travel
// entry is placed. Notification failures are logged and never block the
// marker flow.
package notify

import (
	"fmt"

	"github.com/sirupsen/logrus"
	mailgun "gopkg.in/mailgun/mailgun-go.v1"

	"github.com/matematik7/travelmap-go/markers"
)

type Notifier struct {
	mg        mailgun.Mailgun
	log       *logrus.Logger
	subdomain string
	list      string
}

func New(domain, apiKey, publicAPIKey, subdomain, list string, log *logrus.Logger) *Notifier {
	return &Notifier{
		mg:        mailgun.NewMailgun(domain, apiKey, publicAPIKey),
		log:       log,
		subdomain: subdomain,
		list:      list,
	}
}

// MarkerCreated sends the new-entry announcement.
func (n *Notifier) MarkerCreated(m markers.Marker) {
	txt := `Hi,
a new travel entry was added on %s: %s (%s, %s)

Unsubscribe from these messages:
%%mailing_list_unsubscribe_url%%`
	txt = fmt.Sprintf(txt, n.subdomain, m.Header, m.Location, m.Date)

	msg := n.mg.NewMessage(
		fmt.Sprintf("%s@%s", n.subdomain, n.mg.Domain()),
		fmt.Sprintf("New travel entry on %s", n.subdomain),
		txt,
		n.list,
	)
	if _, _, err := n.mg.Send(msg); err != nil {
		n.log.Errorf("could not send notification: %v", err)
	}
}
