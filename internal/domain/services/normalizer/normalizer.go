// Package normalizer turns heterogeneous address-activity webhook payloads into
// canonical activity records restricted to the tracked asset and, optionally,
// to a tracked-wallet allowlist.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/walletwatch/volume_watcher/internal/domain/entities"
	domainerrors "github.com/walletwatch/volume_watcher/internal/domain/errors"
)

// DefaultRecognizedAssets is the asset set the strict envelope accepts
var DefaultRecognizedAssets = []string{"ETH", "USDC", "DAI"}

// Config controls filtering
type Config struct {
	TrackedAsset     string
	RecognizedAssets []string
	TrackedWallets   []string
}

// Normalizer validates and flattens webhook payloads
type Normalizer struct {
	trackedAsset string
	recognized   map[string]struct{}
	tracked      map[string]int
	validate     *validator.Validate
}

// New creates a normalizer. Tracked wallets are lowercased and deduplicated;
// their 1-based order is kept for alert aliases.
func New(cfg Config) *Normalizer {
	asset := strings.ToUpper(strings.TrimSpace(cfg.TrackedAsset))
	if asset == "" {
		asset = "ETH"
	}
	assets := cfg.RecognizedAssets
	if len(assets) == 0 {
		assets = DefaultRecognizedAssets
	}
	recognized := make(map[string]struct{}, len(assets)+1)
	for _, a := range assets {
		recognized[strings.ToUpper(strings.TrimSpace(a))] = struct{}{}
	}
	recognized[asset] = struct{}{}

	tracked := make(map[string]int)
	for _, w := range cfg.TrackedWallets {
		w = entities.NormalizeAddress(w)
		if w == "" {
			continue
		}
		if _, seen := tracked[w]; !seen {
			tracked[w] = len(tracked) + 1
		}
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Normalizer{
		trackedAsset: asset,
		recognized:   recognized,
		tracked:      tracked,
		validate:     v,
	}
}

// TrackedAsset returns the asset symbol being aggregated
func (n *Normalizer) TrackedAsset() string {
	return n.trackedAsset
}

// TrackingWallets reports whether an allowlist is configured
func (n *Normalizer) TrackingWallets() bool {
	return len(n.tracked) > 0
}

// Normalize decodes raw and returns the retained (activity, direction) pairs.
// Any structural problem rejects the whole payload with a validation error.
func (n *Normalizer) Normalize(raw []byte) (*entities.NormalizedPayload, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return nil, domainerrors.ValidationError("body", "invalid json: "+err.Error())
		}
		return nil, domainerrors.ValidationError("body", "payload must be a JSON object")
	}
	if probe == nil {
		return nil, domainerrors.ValidationError("body", "payload must be a JSON object")
	}

	var (
		payload *entities.NormalizedPayload
		err     error
	)
	if _, typed := probe["type"]; typed {
		payload, err = n.normalizeEnvelope(raw)
	} else {
		payload, err = n.normalizeLegacy(raw)
	}
	if err != nil {
		return nil, err
	}
	payload.Pairs = n.expand(payload.Records)
	return payload, nil
}

func (n *Normalizer) normalizeEnvelope(raw []byte) (*entities.NormalizedPayload, error) {
	var env addressActivityEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, decodeError("", err)
	}
	if err := n.validate.Struct(&env); err != nil {
		return nil, validationFailure("", err)
	}

	// Every entry must be well-formed before any is filtered out.
	entries := make([]strictActivity, len(env.Event.Activity))
	for i, rawEntry := range env.Event.Activity {
		prefix := fmt.Sprintf("activity[%d]", i)
		if err := json.Unmarshal(rawEntry, &entries[i]); err != nil {
			return nil, decodeError(prefix, err)
		}
		if err := n.validate.Struct(&entries[i]); err != nil {
			return nil, validationFailure(prefix, err)
		}
		if _, ok := n.recognized[strings.ToUpper(entries[i].Asset)]; !ok {
			return nil, domainerrors.ValidationError(prefix+".asset",
				fmt.Sprintf("unrecognized %s.asset %q", prefix, entries[i].Asset))
		}
	}

	payload := &entities.NormalizedPayload{MessageID: env.WebhookID, EventID: env.ID}
	for i, e := range entries {
		if !strings.EqualFold(e.Asset, n.trackedAsset) {
			continue
		}
		rec, err := n.buildRecord(fmt.Sprintf("activity[%d]", i), e.Hash, e.FromAddress, e.ToAddress, n.trackedAsset, e.Value.Decimal)
		if err != nil {
			return nil, err
		}
		payload.Records = append(payload.Records, rec)
	}
	return payload, nil
}

func (n *Normalizer) normalizeLegacy(raw []byte) (*entities.NormalizedPayload, error) {
	var env legacyEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, decodeError("", err)
	}
	if env.Event == nil || env.Event.Activity == nil {
		return nil, domainerrors.ValidationError("event.activity", "missing event.activity")
	}

	payload := &entities.NormalizedPayload{MessageID: env.WebhookID, EventID: env.ID}
	for i, rawEntry := range env.Event.Activity {
		prefix := fmt.Sprintf("activity[%d]", i)
		var e legacyActivity
		if err := json.Unmarshal(rawEntry, &e); err != nil {
			return nil, decodeError(prefix, err)
		}
		if !strings.EqualFold(e.Asset, n.trackedAsset) {
			continue
		}
		switch {
		case entities.NormalizeAddress(e.Hash) == "":
			return nil, missing(prefix + ".hash")
		case e.FromAddress == "":
			return nil, missing(prefix + ".fromAddress")
		case e.ToAddress == "":
			return nil, missing(prefix + ".toAddress")
		}
		amount, ok, err := resolveAmount(e.Value, e.RawContract)
		if err != nil {
			return nil, domainerrors.ValidationError(prefix+".rawContract", fmt.Sprintf("invalid %s.rawContract: %v", prefix, err))
		}
		if !ok {
			return nil, missing(prefix + ".value")
		}
		rec, err := n.buildRecord(prefix, e.Hash, e.FromAddress, e.ToAddress, n.trackedAsset, amount)
		if err != nil {
			return nil, err
		}
		payload.Records = append(payload.Records, rec)
	}
	return payload, nil
}

func (n *Normalizer) buildRecord(prefix, hash, from, to, asset string, amount decimal.Decimal) (entities.ActivityRecord, error) {
	// tx hashes key the ledger, so they get the same trim+lowercase as addresses
	hash = entities.NormalizeAddress(hash)
	if hash == "" {
		return entities.ActivityRecord{}, missing(prefix + ".hash")
	}
	from = entities.NormalizeAddress(from)
	to = entities.NormalizeAddress(to)
	if !common.IsHexAddress(from) {
		return entities.ActivityRecord{}, domainerrors.ValidationError(prefix+".fromAddress", fmt.Sprintf("invalid %s.fromAddress", prefix))
	}
	if !common.IsHexAddress(to) {
		return entities.ActivityRecord{}, domainerrors.ValidationError(prefix+".toAddress", fmt.Sprintf("invalid %s.toAddress", prefix))
	}
	if amount.IsNegative() {
		return entities.ActivityRecord{}, domainerrors.ValidationError(prefix+".value", fmt.Sprintf("invalid %s.value: negative amount", prefix))
	}
	return entities.ActivityRecord{
		TxID:   hash,
		Asset:  asset,
		From:   from,
		To:     to,
		Amount: amount,
	}, nil
}

// expand yields up to two directions per record, honouring the allowlist
func (n *Normalizer) expand(records []entities.ActivityRecord) []entities.DirectionalActivity {
	var pairs []entities.DirectionalActivity
	for _, rec := range records {
		for _, d := range entities.Directions {
			wallet := rec.WalletFor(d)
			idx, listed := n.tracked[wallet]
			if n.TrackingWallets() && !listed {
				continue
			}
			pairs = append(pairs, entities.DirectionalActivity{
				Activity:     rec,
				Direction:    d,
				Wallet:       wallet,
				Counterparty: rec.CounterpartyFor(d),
				TrackedIndex: idx,
			})
		}
	}
	return pairs
}

func missing(field string) error {
	return domainerrors.ValidationError(field, "missing "+field)
}

func validationFailure(prefix string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domainerrors.ValidationError(prefix, "invalid payload: "+err.Error())
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	if prefix != "" {
		field = prefix + "." + field
	}
	if fe.Tag() == "required" {
		return missing(field)
	}
	return domainerrors.ValidationError(field, fmt.Sprintf("invalid %s", field))
}

func decodeError(prefix string, err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		field := typeErr.Field
		if prefix != "" {
			field = strings.TrimPrefix(prefix+"."+field, ".")
		}
		if field == "" {
			field = prefix
		}
		return domainerrors.ValidationError(field, fmt.Sprintf("invalid %s: expected %s", field, typeErr.Type))
	}
	field := prefix
	if field == "" {
		field = "body"
	}
	return domainerrors.ValidationError(field, fmt.Sprintf("invalid %s: %v", field, err))
}
