package charger

import (
	"context"
	"fmt"
	"strconv"

	"csms/auth"
	"csms/network"
	"csms/store"

	"github.com/lorenzodonini/ocpp-go/ocpp1.6/core"
	"github.com/lorenzodonini/ocpp-go/ocpp1.6/remotetrigger"
)

const (
	keyNumberOfConnectors = "NumberOfConnectors"
	keyAuthorizationKey   = "AuthorizationKey"
)

// afterBootNotification caches the configuration, creates missing EVSEs and
// rotates the credentials of unauthenticated chargers
func (s *Session) afterBootNotification(ctx context.Context) error {
	l := s.logAction(core.BootNotificationFeatureName)

	conf, err := network.SendRequest[core.GetConfigurationConfirmation](ctx, s.handle, core.GetConfigurationFeatureName, &core.GetConfigurationRequest{})
	if err != nil {
		return fmt.Errorf("failed to get configuration: %w", err)
	}

	s.mu.Lock()
	s.data.Config = configurationOf(conf.ConfigurationKey)
	s.ensureEVSEs()
	err = s.save(ctx)
	authenticated := s.authenticated
	usesMaster := s.factory.auth.UsesMasterPassword(s.data)
	s.mu.Unlock()

	if err != nil {
		return err
	}

	if authenticated {
		return nil
	}

	if usesMaster {
		l.Info("charger uses the master password, disconnecting")
		return s.handle.Disconnect()
	}

	// a boot repeated while pending must not hand out a second key
	if !s.rotating.CompareAndSwap(false, true) {
		l.Debug("credential rotation already in progress")
		return nil
	}

	if err := s.rotateCredentials(ctx); err != nil {
		s.rotating.Store(false)
		return err
	}
	return nil
}

// rotateCredentials hands a fresh AuthorizationKey to the charger and only
// stores it once the charger accepted it
func (s *Session) rotateCredentials(ctx context.Context) error {
	raw, encoded, err := auth.GeneratePassword()
	if err != nil {
		return fmt.Errorf("failed to generate password: %w", err)
	}

	res, err := network.SendRequest[core.ChangeConfigurationConfirmation](ctx, s.handle, core.ChangeConfigurationFeatureName, &core.ChangeConfigurationRequest{
		Key:   keyAuthorizationKey,
		Value: encoded,
	})
	if err != nil {
		return fmt.Errorf("failed to send authorization key: %w", err)
	}

	if res.Status != core.ConfigurationStatusAccepted {
		return fmt.Errorf("charger refused the authorization key: %s", res.Status)
	}

	hash, err := auth.HashPassword(raw, s.factory.opts.BcryptCost)
	if err != nil {
		return err
	}

	if err := s.factory.store.SetPasswordHash(ctx, s.id, hash); err != nil {
		return err
	}

	s.log.Info("credentials rotated, disconnecting")
	return s.handle.Disconnect()
}

// afterStatusNotification asks chargers that never booted for a BootNotification
func (s *Session) afterStatusNotification(ctx context.Context) error {
	s.mu.Lock()
	known := s.data.SerialNumber != nil
	s.mu.Unlock()

	if known {
		return nil
	}

	res, err := network.SendRequest[remotetrigger.TriggerMessageConfirmation](ctx, s.handle, remotetrigger.TriggerMessageFeatureName, &remotetrigger.TriggerMessageRequest{
		RequestedMessage: remotetrigger.MessageTrigger(core.BootNotificationFeatureName),
	})
	if err != nil {
		return fmt.Errorf("failed to trigger boot notification: %w", err)
	}

	if res.Status == remotetrigger.TriggerMessageStatusAccepted {
		return nil
	}

	s.logAction(core.StatusNotificationFeatureName).Info("boot notification trigger rejected, resetting")

	reset, err := network.SendRequest[core.ResetConfirmation](ctx, s.handle, core.ResetFeatureName, &core.ResetRequest{Type: core.ResetTypeSoft})
	if err != nil {
		return fmt.Errorf("failed to reset: %w", err)
	}
	if reset.Status != core.ResetStatusAccepted {
		return fmt.Errorf("charger refused to reset: %s", reset.Status)
	}
	return nil
}

// ensureEVSEs creates one EVSE per NumberOfConnectors
func (s *Session) ensureEVSEs() {
	value, ok := s.data.ConfigValue(keyNumberOfConnectors)
	if !ok {
		return
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		s.log.WithField("value", value).Warn("invalid NumberOfConnectors")
		return
	}

	for i := 1; i <= n; i++ {
		if s.data.EVSE(i) == nil {
			s.data.EVSEs = append(s.data.EVSEs, store.NewEVSE(i))
		}
	}
}

func configurationOf(keys []core.ConfigurationKey) []store.ConfigurationKey {
	res := make([]store.ConfigurationKey, 0, len(keys))
	for _, k := range keys {
		res = append(res, store.ConfigurationKey{Key: k.Key, Value: k.Value, Readonly: k.Readonly})
	}
	return res
}
