// Copyright 2021 Converter Systems LLC. All rights reserved.

package ua

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strings"
	"time"
)

// GetCertificateFromFile reads the certificate and private key from files.
func GetCertificateFromFile(certFile, keyFile string) (*x509.Certificate, *rsa.PrivateKey, error) {
	certs, err := LoadCertificates(certFile)
	if err != nil || len(certs) == 0 {
		return nil, nil, BadCertificateInvalid
	}
	buf, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, nil, BadCertificateInvalid
	}
	var key *rsa.PrivateKey
	if block, _ := pem.Decode(buf); block != nil && strings.HasSuffix(block.Type, "PRIVATE KEY") {
		if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
			key = k
		} else if k2, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
			key, _ = k2.(*rsa.PrivateKey)
		}
	}
	if key == nil {
		return nil, nil, BadCertificateInvalid
	}
	return certs[0], key, nil
}

// LoadCertificates reads every certificate of a PEM file, or a single DER certificate.
func LoadCertificates(path string) ([]*x509.Certificate, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	for len(buf) > 0 {
		var block *pem.Block
		block, buf = pem.Decode(buf)
		if block == nil {
			// maybe its der
			if cert, err := x509.ParseCertificate(buf); err == nil {
				certs = append(certs, cert)
			}
			break
		}
		if block.Type != "CERTIFICATE" || len(block.Headers) != 0 {
			continue
		}
		if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
			certs = append(certs, cert)
		}
	}
	return certs, nil
}

// CreateSelfSignedCertificate creates an application instance certificate
// usable for both client and server authentication.
func CreateSelfSignedCertificate(appName, host string) (*x509.Certificate, *rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, BadCertificateInvalid
	}
	applicationURI, _ := url.Parse(fmt.Sprintf("urn:%s:%s", host, appName))
	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	subjectKeyHash := sha1.New()
	subjectKeyHash.Write(key.PublicKey.N.Bytes())
	subjectKeyID := subjectKeyHash.Sum(nil)

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{CommonName: appName},
		SubjectKeyId:          subjectKeyID,
		AuthorityKeyId:        subjectKeyID,
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().AddDate(1, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment | x509.KeyUsageKeyEncipherment | x509.KeyUsageDataEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{host},
		URIs:                  []*url.URL{applicationURI},
	}

	raw, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, BadCertificateInvalid
	}
	crt, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, nil, BadCertificateInvalid
	}
	return crt, key, nil
}

// WriteCertificateFiles writes the certificate and key as PEM files.
func WriteCertificateFiles(crt *x509.Certificate, key *rsa.PrivateKey, certFile, keyFile string) error {
	if err := writePEM(certFile, &pem.Block{Type: "CERTIFICATE", Bytes: crt.Raw}); err != nil {
		return err
	}
	return writePEM(keyFile, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

func writePEM(path string, block *pem.Block) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := pem.Encode(f, block); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
