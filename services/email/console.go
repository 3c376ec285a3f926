package emailsvc

import (
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/trezcool/mtihani/core"
)

var (
	// SentMessages collects messages sent by the mock service, for test
	// assertions.
	SentMessages = make([]core.EmailMessage, 0)
	mu           sync.Mutex
)

// consoleService prints messages to stdout. DEV/TEST use.
type consoleService struct {
	from          mail.Address
	subjPrefix    string
	disableOutput bool
	recordSent    bool
}

var _ core.EmailService = (*consoleService)(nil)

func NewConsoleService() core.EmailService {
	return &consoleService{
		from:       core.Conf.DefaultFromEmail,
		subjPrefix: "[" + core.Conf.AppName + "] ",
	}
}

// NewConsoleServiceMock returns a silent service that records sent messages in
// SentMessages.
func NewConsoleServiceMock() core.EmailService {
	return &consoleService{
		from:          core.Conf.DefaultFromEmail,
		subjPrefix:    "[" + core.Conf.AppName + "] ",
		disableOutput: true,
		recordSent:    true,
	}
}

func (svc consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go svc.sendMessage(msg)
	}
}

func (svc consoleService) sendMessage(msg *core.EmailMessage) {
	if !msg.HasRecipients() || !msg.HasContent() {
		return
	}

	if svc.recordSent {
		mu.Lock()
		SentMessages = append(SentMessages, *msg)
		mu.Unlock()
	}
	if svc.disableOutput {
		return
	}

	tos := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		tos = append(tos, to.String())
	}
	fmt.Printf(
		"\n%s\nFrom: %s\nTo: %s\nSubject: %s%s\nDate: %s\n\n%s\n%s\n",
		strings.Repeat("-", 70),
		svc.from.String(),
		strings.Join(tos, ", "),
		svc.subjPrefix, msg.Subject,
		time.Now().Format(time.RFC1123Z),
		msg.Body,
		strings.Repeat("-", 70),
	)
}
