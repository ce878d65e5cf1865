// Package mail composes and sends email messages.
//
// A Service is built once from configuration. Construction selects exactly
// one transport (SMTP over net/smtp, or a local sendmail process
// spoken to in -bs mode) and seeds the message with the default sender.
// Callers then chain the builder methods, optionally render the body from an
// email template, and call Send.
//
// Email templates are looked up per module and locale. A theme may override
// any module template for a language by placing a file under
// <templates>/<location>/<theme>/languages/email-templates/<locale>/<module>/;
// otherwise the module's own <modules>/<location>/<module>/languages/email-templates/<locale>/
// folder is used.
package mail
