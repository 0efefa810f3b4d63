// Package validate turns raw field maps into canonical, normalized
// submission payloads or an aggregated validation failure. Validation
// failures are terminal business rejections: redelivery cannot change
// the verdict, so the worker never retries on them.
package validate
