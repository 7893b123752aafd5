package imapsource

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// sessionFetcher is the default Fetcher, backed by a live IMAP connection.
type sessionFetcher struct {
	client *imapclient.Client
}

// Dial opens a new IMAP session for account: connects (TLS per account
// config), authenticates, and leaves the session idle until Fetch selects a
// folder.
func Dial(ctx context.Context, account Account) (Fetcher, error) {
	addr := fmt.Sprintf("%s:%d", account.Host, account.Port)

	var client *imapclient.Client
	var err error
	if account.UseTLS {
		client, err = imapclient.DialTLS(addr, &imapclient.Options{TLSConfig: &tls.Config{ServerName: account.Host}})
	} else {
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("imapsource: dial %s: %w", addr, err)
	}

	if err := client.Login(account.Username, account.Password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("imapsource: login %s: %w", account.Username, err)
	}

	return &sessionFetcher{client: client}, nil
}

// Fetch implements Fetcher by searching folder for messages matching SINCE
// since (and UNSEEN, if unseenOnly is set), then fetching the RFC822 body
// of up to the most recent limit matches.
func (f *sessionFetcher) Fetch(ctx context.Context, folder string, since time.Time, unseenOnly bool, limit int) ([]FetchedMessage, error) {
	if _, err := f.client.Select(folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("imapsource: select %s: %w", folder, err)
	}

	criteria := &imap.SearchCriteria{
		Since: since,
	}
	if unseenOnly {
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	}

	searchData, err := f.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imapsource: search %s: %w", folder, err)
	}

	uids := searchData.AllSeqNums()
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := imap.SeqSetNum(uids...)
	fetchOptions := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}

	fetchCmd := f.client.Fetch(seqSet, fetchOptions)
	defer fetchCmd.Close()

	var messages []FetchedMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		var uid uint32
		var raw []byte
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				uid = uint32(data.UID)
			case imapclient.FetchItemDataBodySection:
				body, readErr := io.ReadAll(data.Literal)
				if readErr == nil {
					raw = body
				}
			}
		}
		if len(raw) > 0 {
			messages = append(messages, FetchedMessage{UID: uid, Raw: raw})
		}
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("imapsource: fetch %s: %w", folder, err)
	}
	return messages, nil
}

// MarkSeen flags uids \Seen in folder, best-effort per the caller's
// "mark_as_read if configured" step.
func (f *sessionFetcher) MarkSeen(ctx context.Context, folder string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	nums := make([]imap.UID, len(uids))
	for i, u := range uids {
		nums[i] = imap.UID(u)
	}
	uidSet := imap.UIDSetNum(nums...)

	storeFlags := &imap.StoreFlags{
		Op:    imap.StoreFlagsAdd,
		Flags: []imap.Flag{imap.FlagSeen},
	}
	if err := f.client.Store(uidSet, storeFlags, nil).Close(); err != nil {
		return fmt.Errorf("imapsource: mark seen %s: %w", folder, err)
	}
	return nil
}

// Close logs out and tears down the connection.
func (f *sessionFetcher) Close() error {
	return f.client.Logout().Wait()
}
