// Package webhook delivers signed JSON notifications to user-configured
// endpoints: render completion notices and automation webhook actions
// both go out through here.
//
// Deliveries are HTTP POSTs carrying an X-Renderkit-Delivery ID, an
// optional X-Renderkit-Event label, and HMAC-SHA256 signature headers
// when a secret is configured. The sender tracks endpoint health per
// host and suspends destinations that stop answering, so one dead
// endpoint does not slow every job that wants to notify it.
//
// Most deliveries in this codebase happen inside queue jobs, which
// already retry with backoff. Those callers send with WithNoRetry and
// pin the delivery ID to the job ID, letting receivers deduplicate
// redeliveries:
//
//	sender := webhook.NewSender()
//
//	err := sender.Send(ctx, notifyURL, event,
//		webhook.WithNoRetry(),
//		webhook.WithEventName("render.completed"),
//		webhook.WithDeliveryID(job.ID),
//		webhook.WithSignature(secret),
//	)
//	switch {
//	case errors.Is(err, webhook.ErrPermanentFailure),
//		errors.Is(err, webhook.ErrInvalidURL):
//		return queue.Permanent(err)
//	case err != nil:
//		return err // transient; the job retries
//	}
//
// Receivers authenticate with Verify against the raw body:
//
//	body, _ := io.ReadAll(r.Body)
//	if err := webhook.Verify(secret, body, r.Header, 5*time.Minute); err != nil {
//		http.Error(w, "bad signature", http.StatusUnauthorized)
//		return
//	}
package webhook
