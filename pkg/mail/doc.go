// Package mail notifies operators about critical tenant failures: SMTP
// sending through gomail, sprig-enabled HTML templates and a bounded
// background queue with exponential retry.
package mail
